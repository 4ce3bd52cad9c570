package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

// colored reports whether styled output should be written to w.
func (o *rootOptions) colored(w io.Writer) bool {
	if o.noColor || o.config.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func styled(w io.Writer, enabled bool, attr color.Attribute, format string, args ...any) {
	c := color.New(attr)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	_, _ = c.Fprintf(w, format+"\n", args...)
}

// echo writes a success message unless the command runs quietly.
func (o *rootOptions) echo(w io.Writer, format string, args ...any) {
	if o.isQuiet() {
		return
	}
	styled(w, o.colored(w), color.FgYellow, format, args...)
}

// echoJSON writes v as indented JSON.
func (o *rootOptions) echoJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	styled(w, o.colored(w), color.FgYellow, "%s", data)
	return nil
}

// printError writes the failure as "<Kind>: <message>". Only the outermost
// message is shown unless verbose is set.
func printError(w io.Writer, err error, colored, verbose bool) {
	message := err.Error()

	var e *imgerr.Error
	if !verbose && errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}

	styled(w, colored, color.FgRed, "%s: %s", imgerr.KindOf(err), message)
}
