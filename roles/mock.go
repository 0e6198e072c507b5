package roles

import "context"

// Mock answers with fixed decisions. With no decisions it holds.
type Mock struct {
	RoleName  string
	Decisions []Decision
	Err       error
	// Func, when set, answers instead of Decisions and Err.
	Func func(ctx context.Context, in Input) ([]Decision, error)
}

func (m *Mock) Name() string { return m.RoleName }

func (m *Mock) Decide(ctx context.Context, in Input) ([]Decision, error) {
	if m.Func != nil {
		return m.Func(ctx, in)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Decisions) == 0 {
		return []Decision{HoldDecision(m.RoleName, "mock")}, nil
	}
	return append([]Decision(nil), m.Decisions...), nil
}
