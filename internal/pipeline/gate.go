package pipeline

import (
	"context"
	"fmt"
	"pdf-ingest-go/pkg/token"
)

// SessionResolver 返回当前请求会话中的用户，没有会话时返回 nil。
type SessionResolver interface {
	GetUser(ctx context.Context) (*token.SessionUser, error)
}

// Metadata 是通过会话校验后向下游传递的可信元数据。
type Metadata struct {
	UserID string `json:"userId"`
}

// Gate 在任何副作用发生之前校验调用者身份。
type Gate struct {
	sessions SessionResolver
}

// NewGate 创建会话校验器。
func NewGate(sessions SessionResolver) *Gate {
	return &Gate{sessions: sessions}
}

// Authorize 解析会话，没有用户或用户 ID 为空时返回 ErrUnauthorized。
func (g *Gate) Authorize(ctx context.Context) (Metadata, error) {
	if g.sessions == nil {
		return Metadata{}, ErrUnauthorized
	}
	user, err := g.sessions.GetUser(ctx)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if user == nil || user.ID == "" {
		return Metadata{}, ErrUnauthorized
	}
	return Metadata{UserID: user.ID}, nil
}
