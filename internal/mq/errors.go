package mq

import "errors"

var (
	// ErrNoChannel — соединение с брокером потеряно, канала нет.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrConnectionClosed — соединение закрыто вызовом Close.
	ErrConnectionClosed = errors.New("amqp connection closed")

	// ErrNacked — брокер не принял сообщение (publisher confirms).
	ErrNacked = errors.New("message nacked by broker")

	// ErrUnexpectedType — тип сообщения не обслуживается consumer'ом.
	ErrUnexpectedType = errors.New("unexpected message type")
)
