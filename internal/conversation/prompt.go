package conversation

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

const defaultLanguage = "Brazilian Portuguese"

// Prompt is everything a generator gets for one answer.
type Prompt struct {
	System string
	// History holds earlier turns, oldest first. The current query is not part of it.
	History    []models.Turn
	Query      string
	Grounding  []*models.RetrievedRecord
	SideTables []models.SideTable
}

// DefaultSystemPrompt returns the instructions used when none are configured.
func DefaultSystemPrompt(language string) string {
	if language == "" {
		language = defaultLanguage
	}
	return fmt.Sprintf(`You write the reply a support agent should send to a customer, based on the best previous answers to similar questions. Follow ALL of these rules:

1/ The reply must be very similar or even identical to the best previous answers in length, tone of voice, logical arguments and other details.

2/ If the previous answers are irrelevant, imitate their style when answering the customer's message.

3/ When the product or promotion tables are relevant, use them and do not invent items, prices or conditions that are not in them.

4/ Always answer in %s.`, language)
}

// UserContent renders the query, the grounding examples, and the side tables as one message.
func (p *Prompt) UserContent() string {
	var b strings.Builder
	b.WriteString("Customer message:\n")
	b.WriteString(p.Query)
	b.WriteString("\n\n")

	b.WriteString("Best previous answers to similar questions:\n")
	if len(p.Grounding) == 0 {
		b.WriteString("(none)\n")
	}
	for i, g := range p.Grounding {
		fmt.Fprintf(&b, "%d. Question: %s\n   Answer: %s\n   Distance: %.4f\n", i+1, g.Question, g.Answer, g.Distance)
	}

	for _, t := range p.SideTables {
		fmt.Fprintf(&b, "\n%s:\n%s\n", t.Name, strings.TrimRight(t.Content, "\n"))
	}

	b.WriteString("\nWrite the best reply to send to this customer:")
	return b.String()
}
