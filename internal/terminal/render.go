// Package terminal prints a prediction and its streamed recipes to a console.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/recipe"
	"github.com/vbonduro/dapoerkito/internal/service"
)

const waitingMessage = "Menulis resep..."

// Renderer writes recipe text to out and status output (spinner, messages)
// to status. It is driven from the goroutine reading the stream.
type Renderer struct {
	out     io.Writer
	status  io.Writer
	spinner *spinner.Spinner
	wrote   bool
	last    string
}

func New(out, status io.Writer) *Renderer {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(status))
	s.Suffix = "  " + waitingMessage
	s.Color("cyan")
	return &Renderer{out: out, status: status, spinner: s}
}

func (r *Renderer) Headline(res domain.ClassificationResult) {
	color.New(color.FgGreen, color.Bold).Fprintln(r.out, res.Headline())
	fmt.Fprintln(r.out)
}

// Waiting shows the spinner until the first fragment arrives.
func (r *Renderer) Waiting() {
	r.spinner.Start()
}

// Update prints the new fragment. It has the signature of recipe.UpdateFunc.
func (r *Renderer) Update(u recipe.Update) {
	if !r.wrote {
		r.spinner.Stop()
		color.New(color.Bold).Fprintln(r.out, "Rekomendasi Resep:")
		r.wrote = true
	}
	fmt.Fprint(r.out, u.Fragment)
	r.last = u.Text
}

// Finish prints the closing state of the run.
func (r *Renderer) Finish(o *service.Outcome) {
	r.spinner.Stop()
	if r.wrote && !strings.HasSuffix(r.last, "\n") {
		fmt.Fprintln(r.out)
	}

	switch o.Kind {
	case service.OutcomeFailed:
		color.New(color.FgRed).Fprintf(r.status, "✗ %s\n", o.Message)
	case service.OutcomeEmpty:
		color.New(color.FgYellow).Fprintf(r.status, "%s\n", o.Message)
	case service.OutcomePartial:
		color.New(color.FgYellow).Fprintln(r.status, "Resep terpotong karena koneksi terputus.")
	}
}
