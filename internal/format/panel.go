package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/gustycube/certprobe/internal/types"
	"github.com/gustycube/certprobe/internal/validity"
)

const panelTime = "2006-01-02 15:04:05"

// PanelFormatter draws each result inside a rounded box, colored by class.
type PanelFormatter struct {
	palette map[validity.Class]*color.Color
	failure *color.Color
}

// NewPanelFormatter builds a panel formatter. When enabled is false no escape
// sequences are emitted regardless of the terminal.
func NewPanelFormatter(enabled bool) *PanelFormatter {
	p := &PanelFormatter{
		palette: map[validity.Class]*color.Color{
			validity.ClassExpired: color.New(color.FgRed),
			// 256-color orange
			validity.ClassCritical: color.New(38, 5, 214),
			validity.ClassWarning:  color.New(color.FgYellow),
			validity.ClassOK:       color.New(color.FgGreen),
		},
		failure: color.New(color.FgRed),
	}
	for _, c := range p.all() {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *PanelFormatter) all() []*color.Color {
	out := []*color.Color{p.failure}
	for _, c := range p.palette {
		out = append(out, c)
	}
	return out
}

// Format renders res as a panel followed by a newline.
func (p *PanelFormatter) Format(res types.Result) ([]byte, error) {
	if res.Cert == nil {
		return []byte(box(p.failure, failureLines(res))), nil
	}
	c, ok := p.palette[res.Class]
	if !ok {
		c = p.failure
	}
	return []byte(box(c, certLines(res))), nil
}

func certLines(res types.Result) []string {
	cert := res.Cert
	return []string{
		"Domain: " + cert.SubjectCommonName,
		fmt.Sprintf("Host: %s Port: %d", res.Host, res.Port),
		"Protocol: " + cert.ProtocolVersion,
		"Organization: " + cert.IssuerOrganization,
		"Certificate: " + cert.IssuerCommonName,
		"Valid from: " + cert.NotBefore.UTC().Format(panelTime),
		"Valid to: " + cert.NotAfter.UTC().Format(panelTime),
		fmt.Sprintf("Remaining days: %d", res.RemainingDays),
		res.Class.Message(),
	}
}

func failureLines(res types.Result) []string {
	lines := []string{fmt.Sprintf("Host: %s Port: %d", res.Host, res.Port)}
	if res.Port == 0 {
		lines[0] = "Host: " + res.Host
	}
	return append(lines,
		"Error: "+res.ErrorKind,
		"An error occurred while checking the SSL certificate for "+res.Host+": "+res.Error,
	)
}

// box wraps lines in a rounded border. Only the text is colored.
func box(c *color.Color, lines []string) string {
	width := 0
	for _, l := range lines {
		if n := utf8.RuneCountInString(l); n > width {
			width = n
		}
	}

	var b strings.Builder
	b.WriteString("╭" + strings.Repeat("─", width+2) + "╮\n")
	for _, l := range lines {
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(l))
		b.WriteString("│ " + c.Sprint(l) + pad + " │\n")
	}
	b.WriteString("╰" + strings.Repeat("─", width+2) + "╯\n")
	return b.String()
}
