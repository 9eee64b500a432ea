package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// notificationPrefix marks methods that never get a response, even
// without an id.
const notificationPrefix = "notifications/"

// Service is the method surface the transports dispatch into.
type Service interface {
	Initialize(ctx context.Context) (any, error)
	ListTools(ctx context.Context) (any, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// Server decodes envelopes and routes them to a Service. It is shared
// by the stdio and websocket transports so both speak an identical
// contract.
type Server struct {
	svc    Service
	logger *slog.Logger
}

// NewServer creates the shared dispatch core.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		logger: logger.With("component", "rpc"),
	}
}

// callParams is the tools/call parameter shape.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Handle processes one raw message and returns the response to write,
// or nil when the message is a notification.
//
// Messages without a usable id split on method: notification-prefixed
// methods are acknowledged silently, anything else gets one id:null
// invalid-request response. Unparseable input gets one id:null
// parse-error response.
func (s *Server) Handle(ctx context.Context, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(nil, Errorf(CodeParseError, "parse error: %v", err))
	}
	if req.Method == "" {
		return failure(req.ID, Errorf(CodeInvalidRequest, "missing method"))
	}

	if !hasID(req.ID) {
		if strings.HasPrefix(req.Method, notificationPrefix) {
			s.logger.Debug("notification", "method", req.Method)
			return nil
		}
		return failure(nil, Errorf(CodeInvalidRequest, "request %q has no id", req.Method))
	}

	res, err := s.dispatch(ctx, &req)
	if err != nil {
		var eo *ErrorObj
		if !errors.As(err, &eo) {
			eo = Errorf(CodeInternalError, "%v", err)
		}
		s.logger.Warn("request failed", "method", req.Method, "code", eo.Code, "error", eo.Message)
		return failure(req.ID, eo)
	}
	return result(req.ID, res)
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case "initialize":
		return s.svc.Initialize(ctx)
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return s.svc.ListTools(ctx)
	case "tools/call":
		var params callParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
			}
		}
		if params.Name == "" {
			return nil, Errorf(CodeInvalidParams, "missing tool name")
		}
		return s.svc.CallTool(ctx, params.Name, params.Arguments)
	default:
		return nil, Errorf(CodeMethodNotFound, "method not found: %s", req.Method)
	}
}
