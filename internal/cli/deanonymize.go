package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/anonymizer/internal/engine"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

type tokenResult struct {
	Token        string `json:"token"`
	EntityType   string `json:"entity_type,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
}

func newDeanonymizeCmd(a *app) *cobra.Command {
	var file, output string
	cmd := &cobra.Command{
		Use:   "deanonymize <token>... | --file <path>",
		Short: "Resolve tokens back to their original values",
		Long: "Resolve [TYPE_slug], TYPE_slug or bare slug tokens to the original values.\n" +
			"With --file, every token in the file is replaced and the result printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case file != "" && len(args) > 0:
				return userError(errors.New("give tokens or --file, not both"))
			case file != "":
				return a.deanonymizeFile(cmd, file, output)
			case len(args) == 0:
				return userError(errors.New("no tokens given"))
			default:
				return a.deanonymizeTokens(cmd, args)
			}
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "text file whose tokens are replaced")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the restored file here instead of stdout")
	return cmd
}

func (a *app) deanonymizeTokens(cmd *cobra.Command, tokens []string) error {
	sess, err := a.newSession(false)
	if err != nil {
		return err
	}
	defer sess.Close()

	results := make([]tokenResult, 0, len(tokens))
	var worst error
	for _, tok := range tokens {
		rec, err := sess.engine.Deanonymize(cmd.Context(), tok)
		if err != nil {
			results = append(results, tokenResult{Token: tok, Error: err.Error(), ErrorKind: types.ErrorKind(err)})
			worst = worseError(worst, err)
			continue
		}
		results = append(results, tokenResult{Token: tok, EntityType: rec.EntityType, OriginalName: rec.OriginalName})
	}

	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		if err := writeJSON(out, results); err != nil {
			return sysError(err)
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", r.Token, r.Error)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", r.Token, r.EntityType, r.OriginalName)
		}
	}
	if worst != nil {
		return &exitError{code: tokenExitCode(worst), err: fmt.Errorf("unresolved tokens: %w", worst)}
	}
	return nil
}

// tokenExitCode treats lookups that found nothing usable as user errors and
// everything else, including key mismatches, as system errors.
func tokenExitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrSlugNotFound),
		errors.Is(err, types.ErrAmbiguousSlug),
		errors.Is(err, types.ErrInvalidToken):
		return ExitUserError
	default:
		return ExitSysError
	}
}

func worseError(cur, next error) error {
	if cur == nil || tokenExitCode(next) > tokenExitCode(cur) {
		return next
	}
	return cur
}

func (a *app) deanonymizeFile(cmd *cobra.Command, path, output string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return userError(fmt.Errorf("read %s: %w", path, err))
	}
	sess, err := a.newSession(false)
	if err != nil {
		return err
	}
	defer sess.Close()

	restored, unresolved, err := sess.engine.DeanonymizeText(cmd.Context(), string(data))
	if err != nil {
		return sysError(err)
	}
	if output != "" {
		if err := os.WriteFile(output, []byte(restored), 0o600); err != nil {
			return sysError(fmt.Errorf("write %s: %w", output, err))
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), restored)
	}
	reportUnresolved(cmd, unresolved)
	return nil
}

func reportUnresolved(cmd *cobra.Command, unresolved []engine.Unresolved) {
	for _, u := range unresolved {
		fmt.Fprintf(cmd.ErrOrStderr(), "unresolved %s: %v\n", u.Token, u.Err)
	}
}
