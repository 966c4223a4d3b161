package urlize_test

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/cmd/urlize"
)

func TestUrlizeCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "default style keeps case",
			args: []string{"Héllo Wörld"},
			want: "Hello-World\n",
		},
		{
			name: "arguments are joined",
			args: []string{"--style", "lower", "Héllo", "Wörld"},
			want: "hello-world\n",
		},
		{
			name: "separator and upper case",
			args: []string{"--style", "upper", "--separator", "_", "a", "b"},
			want: "A_B\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			cmd := urlize.NewUrlizeCommand()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)

			c.Assert(cmd.Execute(), qt.IsNil)
			c.Assert(out.String(), qt.Equals, tt.want)
		})
	}
}

func TestUrlizeCommand_Errors(t *testing.T) {
	c := qt.New(t)

	cmd := urlize.NewUrlizeCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--style", "snake", "text"})
	c.Assert(cmd.Execute(), qt.ErrorMatches, `unknown style "snake"`)

	cmd = urlize.NewUrlizeCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	c.Assert(cmd.Execute(), qt.ErrorMatches, "requires at least 1 arg.*")
}
