package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/guardly/dialograils/internal/provider"
	"github.com/guardly/dialograils/internal/rail"
)

const (
	// ResponseLengthLimit is the threshold the built-in "keep answers
	// short" flow enforces.
	ResponseLengthLimit = 500

	citationNote   = "\n\n(Note: Please provide sources or citations for external information.)"
	truncationNote = "... (Response truncated for brevity)"
)

// RegisterBuiltins registers the external actions the built-in rule set
// references: shorten_response and append_citation_note.
func RegisterBuiltins(registry *rail.Registry, prov provider.Provider, opts provider.Options) error {
	if err := registry.Register("shorten_response", shortenResponse(prov, opts)); err != nil {
		return err
	}
	return registry.Register("append_citation_note", appendCitationNote)
}

// shortenResponse asks the provider to regenerate the candidate
// response under the length limit. Regeneration failure does not abort
// the turn; the response is truncated locally instead, so the user
// still gets an answer.
func shortenResponse(prov provider.Provider, opts provider.Options) rail.ActionFunc {
	return func(ctx context.Context, turn *rail.TurnContext) (rail.Delta, error) {
		response, ok := turn.Response()
		if !ok || len(response) <= ResponseLengthLimit {
			return nil, nil
		}

		prompt := fmt.Sprintf(
			"Rewrite the following response so it keeps its key points but stays under %d characters. Reply with the rewritten text only.\n\n%s",
			ResponseLengthLimit, response)

		shorter, err := prov.Generate(ctx, prompt, opts)
		if err != nil || strings.TrimSpace(shorter) == "" {
			return rail.Delta{rail.VarResponse: truncate(response)}, nil
		}
		return rail.Delta{rail.VarResponse: shorter}, nil
	}
}

func truncate(response string) string {
	cut := strings.ToValidUTF8(response[:ResponseLengthLimit], "")
	return cut + truncationNote
}

// appendCitationNote appends the citation reminder. Appending is
// idempotent: a response already carrying the note is left alone.
func appendCitationNote(_ context.Context, turn *rail.TurnContext) (rail.Delta, error) {
	response, ok := turn.Response()
	if !ok || strings.Contains(response, strings.TrimSpace(citationNote)) {
		return nil, nil
	}
	return rail.Delta{rail.VarResponse: response + citationNote}, nil
}
