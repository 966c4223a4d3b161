package urlize

import (
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/behave/behavior/slug"
	"github.com/stokaro/behave/core/metadata"
)

const (
	separatorFlag = "separator"
	styleFlag     = "style"
)

var urlizeFlags = map[string]cobraflags.Flag{
	separatorFlag: &cobraflags.StringFlag{
		Name:  separatorFlag,
		Value: "-",
		Usage: "Word separator",
	},
	styleFlag: &cobraflags.StringFlag{
		Name:  styleFlag,
		Value: metadata.StyleDefault,
		Usage: "Letter case (default, lower, upper, camel)",
	},
}

// NewUrlizeCommand creates the urlize command, which prints the slug of its
// arguments.
func NewUrlizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urlize TEXT...",
		Short: "Print the slug of a text",
		Long: `Transliterate the text to ASCII and turn it into a URL friendly slug,
the same way slug fields are generated.

Examples:
  behave urlize "Héllo Wörld"                    # Hello-World
  behave urlize --style lower "Héllo Wörld"      # hello-world
  behave urlize --style upper --separator _ a b  # A_B`,
		Args: cobra.MinimumNArgs(1),
		RunE: urlizeCommand,
	}
	cobraflags.RegisterMap(cmd, urlizeFlags)
	return cmd
}

func urlizeCommand(cmd *cobra.Command, args []string) error {
	style := urlizeFlags[styleFlag].GetString()
	switch style {
	case metadata.StyleDefault, metadata.StyleLower, metadata.StyleUpper, metadata.StyleCamel:
	default:
		return fmt.Errorf("unknown style %q", style)
	}
	separator := urlizeFlags[separatorFlag].GetString()
	_, err := fmt.Fprintln(cmd.OutOrStdout(), slug.Format(strings.Join(args, " "), separator, style))
	return err
}
