package kernel

import "context"

// ToolList is the tools/list result wrapper.
type ToolList struct {
	Tools []ToolInfo `json:"tools"`
}

// Service adapts the dispatcher to the transport dispatch surface.
type Service struct {
	d *Dispatcher
}

// Service returns the transport-facing view of the dispatcher.
func (d *Dispatcher) Service() *Service {
	return &Service{d: d}
}

func (s *Service) Initialize(_ context.Context) (any, error) {
	return s.d.Initialize(), nil
}

func (s *Service) ListTools(ctx context.Context) (any, error) {
	tools, err := s.d.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []ToolInfo{}
	}
	return ToolList{Tools: tools}, nil
}

func (s *Service) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return s.d.CallTool(ctx, name, args)
}
