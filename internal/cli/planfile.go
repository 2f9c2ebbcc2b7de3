package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlanFile — файл плана не прошёл проверку.
var ErrInvalidPlanFile = errors.New("invalid plan file")

// LoadPlanFile читает план из YAML (или JSON) файла. "-" — stdin.
//
// Формат:
//
//	max_concurrency: 2
//	tenants:
//	  - tenant_id: acme
//	    deploy_unit: {id: billing, version: v2}
//	    endpoints: [http://acme-1:8080]
//	    previous:
//	      deploy_unit: {id: billing, version: v1}
//	    last_known_good_version: v1
func LoadPlanFile(path string, stdin io.Reader) (CreatePlanRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return CreatePlanRequest{}, fmt.Errorf("read plan file: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan разбирает и проверяет план. Неизвестные ключи — ошибка.
func ParsePlan(data []byte) (CreatePlanRequest, error) {
	var req CreatePlanRequest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, fmt.Errorf("%w: empty", ErrInvalidPlanFile)
		}
		return req, fmt.Errorf("%w: %w", ErrInvalidPlanFile, err)
	}

	if len(req.Tenants) == 0 {
		return req, fmt.Errorf("%w: no tenants", ErrInvalidPlanFile)
	}
	seen := make(map[string]bool, len(req.Tenants))
	for i, t := range req.Tenants {
		switch {
		case t.TenantID == "":
			return req, fmt.Errorf("%w: tenants[%d]: tenant_id is required", ErrInvalidPlanFile, i)
		case t.DeployUnit.ID == "" || t.DeployUnit.Version == "":
			return req, fmt.Errorf("%w: tenant %s: deploy_unit id and version are required", ErrInvalidPlanFile, t.TenantID)
		case seen[t.TenantID]:
			return req, fmt.Errorf("%w: tenant %s listed twice", ErrInvalidPlanFile, t.TenantID)
		}
		seen[t.TenantID] = true
	}
	if req.MaxConcurrency < 0 {
		return req, fmt.Errorf("%w: max_concurrency must be >= 0", ErrInvalidPlanFile)
	}
	return req, nil
}
