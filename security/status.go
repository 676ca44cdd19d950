package security

import "context"

// Status summarises the pipeline's shared state.
type Status struct {
	BlockedIPs      []Block  `json:"blockedIPs"`
	SuspiciousIPs   []string `json:"suspiciousIPs"`
	TotalBlocked    int      `json:"totalBlocked"`
	TotalSuspicious int      `json:"totalSuspicious"`
	RulesVersion    string   `json:"rulesVersion"`
}

// Status reads the block list and suspicious set.
func (s *Shield) Status(ctx context.Context) (Status, error) {
	blocked, err := s.blocks.Blocked(ctx)
	if err != nil {
		return Status{}, err
	}
	suspicious, err := s.blocks.Suspicious(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		BlockedIPs:      blocked,
		SuspiciousIPs:   suspicious,
		TotalBlocked:    len(blocked),
		TotalSuspicious: len(suspicious),
		RulesVersion:    RulesVersion,
	}, nil
}
