package inbound

// SpamReport carries the provider's spam verdict. Either field is nil when
// the provider did not send it.
type SpamReport struct {
	Report *string `json:"report"`
	Score  *string `json:"score"`
}

// BuildSpamReport reads spam_report and spam_score from p without validation.
func BuildSpamReport(p *Params) SpamReport {
	var sr SpamReport
	if v, ok := p.Lookup(fieldSpamReport); ok {
		sr.Report = &v
	}
	if v, ok := p.Lookup(fieldSpamScore); ok {
		sr.Score = &v
	}
	return sr
}
