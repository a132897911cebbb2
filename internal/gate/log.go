package gate

// Log is the structured audit trail of one pipeline run, persisted with the
// attempt record. Each check keeps its own diagnostics object so downstream
// tooling can diff individual outcomes across attempts.
type Log struct {
	Checks   []Check      `json:"checks"`
	Footer   *FooterLog   `json:"footer,omitempty"`
	Dispatch *DispatchLog `json:"dispatch,omitempty"`
}

type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

type FooterLog struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason"`
	Length  int    `json:"length"`
}

type DispatchLog struct {
	Provider      string `json:"provider"`
	HTTPStatus    int    `json:"httpStatus,omitempty"`
	ProviderMsgID string `json:"providerMsgId,omitempty"`
	Error         string `json:"error,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

func (l *Log) check(name string, passed bool, reason string, details any) {
	l.Checks = append(l.Checks, Check{Name: name, Passed: passed, Reason: reason, Details: details})
}
