// Package busctx carries per-call bus diagnostics flags through a context.
package busctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexNode
)

// IsVerbose reports whether transports should dump raw frames.
func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Node returns the device node name attached to ctx or an empty string.
func Node(ctx context.Context) string {
	val := ctx.Value(ctxIndexNode)
	if val == nil {
		return ""
	}
	return val.(string)
}

func WithNode(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxIndexNode, name)
}
