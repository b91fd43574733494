package client

import (
	"net/url"
	"strconv"
	"strings"
)

// Deep-link query parameters.
const (
	ParamPending   = "pending"
	ParamSignature = "signature"
	ParamPlan      = "plan"
	ParamClass     = "class"
)

// DeepLink is what a notification link asks the page to open.
type DeepLink struct {
	PendingID   string
	SignatureID string
	PlanID      string
	Ordinal     int
}

func (d DeepLink) Empty() bool {
	return d.PendingID == "" && d.SignatureID == ""
}

// ConsumeDeepLink reads the deep-link parameters of raw and returns them
// together with raw stripped of those parameters.
func ConsumeDeepLink(raw string) (DeepLink, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return DeepLink{}, raw, err
	}
	q := u.Query()
	link := DeepLink{
		PendingID:   strings.TrimSpace(q.Get(ParamPending)),
		SignatureID: strings.TrimSpace(q.Get(ParamSignature)),
		PlanID:      strings.TrimSpace(q.Get(ParamPlan)),
	}
	if n, err := strconv.Atoi(q.Get(ParamClass)); err == nil {
		link.Ordinal = n
	}
	if link.Empty() {
		return link, raw, nil
	}
	for _, p := range []string{ParamPending, ParamSignature, ParamPlan, ParamClass} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return link, u.String(), nil
}
