package alerts

import (
	"context"
	"strings"
)

// Event is a saga alert. Empty fields are left out of the rendered text.
type Event struct {
	Title      string
	SagaID     string
	Code       string
	Stage      string
	Owner      string
	Subaccount string
	Coin       string
	Detail     string
}

func (e Event) Text() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(e.Title))
	for _, field := range [][2]string{
		{"saga", e.SagaID},
		{"code", e.Code},
		{"stage", e.Stage},
		{"owner", e.Owner},
		{"subaccount", e.Subaccount},
		{"coin", e.Coin},
		{"detail", e.Detail},
	} {
		value := strings.TrimSpace(field[1])
		if value == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(field[0])
		b.WriteString(": ")
		b.WriteString(value)
	}
	return b.String()
}

// Notify sends ev through Send, so prefixing and truncation still apply.
func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	return t.Send(ctx, ev.Text())
}
