// Package prompt asks the user where hosts come from when none were given on
// the command line.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gustycube/certprobe/internal/hosts"
)

// MaxAttempts bounds how often an invalid input type is asked again.
const MaxAttempts = 3

var ErrTooManyAttempts = errors.New("too many invalid answers")

// Selection is what the user chose.
type Selection struct {
	Hosts   []string
	SavedTo string
}

type Prompter struct {
	in      *bufio.Reader
	out     io.Writer
	SaveDir string
	now     func() time.Time
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      bufio.NewReader(in),
		out:     out,
		SaveDir: hosts.DefaultSaveDir,
		now:     time.Now,
	}
}

// ask prints question and returns the answer without its line ending.
func (p *Prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func firstLetter(s string) byte {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	return s[0]
}

// Run walks the user through choosing text or file input.
func (p *Prompter) Run() (Selection, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		answer, err := p.ask("Enter the input type ([t]ext/[f]ile): ")
		if err != nil {
			return Selection{}, err
		}
		switch firstLetter(answer) {
		case 't':
			return p.text()
		case 'f':
			return p.file()
		}
		fmt.Fprintln(p.out, "Invalid input type. Please enter either 'text' or 'file'.")
	}
	return Selection{}, fmt.Errorf("%w: %w", hosts.ErrInput, ErrTooManyAttempts)
}

func (p *Prompter) text() (Selection, error) {
	answer, err := p.ask("Enter the hosts (comma-separated): ")
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Hosts: hosts.Parse(answer)}
	if len(sel.Hosts) == 0 {
		return sel, nil
	}
	path := hosts.TimestampPath(p.SaveDir, p.now())
	if err := hosts.Save(path, sel.Hosts); err != nil {
		return sel, err
	}
	sel.SavedTo = path
	return sel, nil
}

func (p *Prompter) file() (Selection, error) {
	path, err := p.ask("Enter the file path: ")
	if err != nil {
		return Selection{}, err
	}
	list, err := hosts.Load(strings.TrimSpace(path))
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Hosts: list}

	answer, err := p.ask("Do you want to save the hosts to a JSON file? ([y]es/[n]o): ")
	if err != nil {
		if errors.Is(err, io.EOF) {
			return sel, nil
		}
		return sel, err
	}
	if firstLetter(answer) != 'y' {
		return sel, nil
	}
	dest, err := p.ask("Enter the path to save the JSON file: ")
	if err != nil {
		return sel, err
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		dest = hosts.TimestampPath(p.SaveDir, p.now())
	}
	if err := hosts.Save(dest, sel.Hosts); err != nil {
		return sel, err
	}
	sel.SavedTo = dest
	return sel, nil
}
