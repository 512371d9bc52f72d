package mq

import "context"

// 消息队列抽象。knowledge 模块通过它把文档摄取从上传请求里解耦出去，
// 具体实现见 kafka 子包。

type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

type PublishResult struct {
	Partition int32
	Offset    int64
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}
