package mdsource

import (
	"context"

	"stockx.com/internal/quotes/model"
)

// Session 一条已建立的上游连接，只能用来发订阅
type Session interface {
	Subscribe(ctx context.Context, providerIDs []string, lite bool) error
}

// Handler 连接生命周期里的回调，由 Streamer 实现。
// OnTick 在读循环里同步调用，不能阻塞。
type Handler interface {
	OnConnect(ctx context.Context, s Session) error
	OnTick(t model.RawTick)
	OnDrop(reason string)
}

// Source：一个"可插拔"的推流数据源。
// Run 是一次连接的生命周期：连上后回调 OnConnect，然后阻塞读，直到断线、出错或 ctx.Done()。
// 不做重连，重连交给 Streamer。
type Source interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}
