package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/support-agent/agent/contract"
)

//go:embed template/support.txt
var supportRaw string

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Support string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Support: strings.TrimSpace(supportRaw),
	}
}

func (p PromptSet) Validate() error {
	if p.Support == "" {
		return fmt.Errorf("%w: support system prompt", contractx.ErrPromptMissing)
	}
	return nil
}
