package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/streambot/handler"
)

// Unit is one loadable command as produced by a Source.
type Unit struct {
	Name    string
	Handler *handler.Handler
	// ModOnly restricts the command to moderators and the broadcaster.
	ModOnly bool
	// Origin is the file path, or "static" for units registered in code.
	Origin string
}

// Source lists the command units currently available. Later units win name
// collisions.
type Source interface {
	List(ctx context.Context) ([]Unit, error)
}

// StaticSource holds units registered from code at startup.
type StaticSource struct {
	mu    sync.Mutex
	units []Unit
}

// Register adapts fn and adds it under name.
func (s *StaticSource) Register(name string, fn any, modOnly bool) error {
	if name == "" {
		return fmt.Errorf("commands: empty command name")
	}
	h, err := handler.Adapt(name, fn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.units = append(s.units, Unit{Name: name, Handler: h, ModOnly: modOnly, Origin: "static"})
	s.mu.Unlock()
	return nil
}

// List returns the registered units in registration order.
func (s *StaticSource) List(ctx context.Context) ([]Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Unit(nil), s.units...), nil
}

// MultiSource concatenates sources in order.
type MultiSource []Source

func (m MultiSource) List(ctx context.Context) ([]Unit, error) {
	var out []Unit
	for _, src := range m {
		if src == nil {
			continue
		}
		units, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, units...)
	}
	return out, nil
}

// Definition is the YAML shape of a command file.
//
//	name: hug            # optional, defaults to the file name without extension
//	response: "{{.Author}} hugs {{.Target}}"
//	responses: [...]     # alternative to response; one is picked at random
//	mod_only: false
type Definition struct {
	Name      string   `yaml:"name"`
	Response  string   `yaml:"response"`
	Responses []string `yaml:"responses"`
	ModOnly   bool     `yaml:"mod_only"`
}

// ResponseData is the value command templates are rendered with.
type ResponseData struct {
	Author  string
	User    string
	Channel string
	Command string
	Args    []string
	// Target is the first argument with a leading '@' removed, else the author.
	Target string
	Raw    string
	Live   bool
	Bot    string
}

// DirSource loads one command per YAML file in Dir. A missing directory means
// no commands; malformed files are logged and skipped.
type DirSource struct {
	Dir string
}

func (d DirSource) List(ctx context.Context) ([]Unit, error) {
	dir := strings.TrimSpace(d.Dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("commands: read %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	units := make([]Unit, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := LoadCommandFile(path)
		if err != nil {
			slog.Warn("skipping command file", slog.String("component", "commands"),
				slog.String("path", path), slog.Any("err", err))
			continue
		}
		units = append(units, u)
	}
	return units, nil
}

// LoadCommandFile parses a single YAML command definition.
func LoadCommandFile(path string) (Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Unit{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Unit{}, fmt.Errorf("%s: definition is empty", path)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Unit{}, fmt.Errorf("%s: decode: %w", path, err)
	}
	name := strings.TrimSpace(def.Name)
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if strings.ContainsAny(name, " \t\n") {
		return Unit{}, fmt.Errorf("%s: command name %q contains whitespace", path, name)
	}
	responses := def.Responses
	if def.Response != "" {
		responses = append([]string{def.Response}, responses...)
	}
	if len(responses) == 0 {
		return Unit{}, fmt.Errorf("%s: no response defined", path)
	}
	tmpls := make([]*template.Template, 0, len(responses))
	for i, r := range responses {
		t, err := template.New(fmt.Sprintf("%s#%d", name, i)).Option("missingkey=zero").Parse(r)
		if err != nil {
			return Unit{}, fmt.Errorf("%s: response %d: %w", path, i, err)
		}
		tmpls = append(tmpls, t)
	}
	h, err := handler.Adapt(name, templateHandler(tmpls))
	if err != nil {
		return Unit{}, err
	}
	return Unit{Name: name, Handler: h, ModOnly: def.ModOnly, Origin: filepath.Clean(path)}, nil
}

func templateHandler(tmpls []*template.Template) func(context.Context, handler.Bot, *handler.Context) error {
	return func(ctx context.Context, bot handler.Bot, c *handler.Context) error {
		t := tmpls[0]
		if len(tmpls) > 1 {
			t = tmpls[rand.Intn(len(tmpls))]
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, newResponseData(bot, c)); err != nil {
			return fmt.Errorf("render %s: %w", c.Command, err)
		}
		return c.Reply(ctx, buf.String())
	}
}

func newResponseData(bot handler.Bot, c *handler.Context) ResponseData {
	d := ResponseData{
		Author:  c.Author(),
		User:    c.Event.User.Name,
		Channel: c.Event.Channel,
		Command: c.Command,
		Args:    c.Args,
		Raw:     c.Raw,
		Target:  c.Author(),
	}
	if len(c.Args) > 0 {
		if t := strings.TrimPrefix(c.Args[0], "@"); t != "" {
			d.Target = t
		}
	}
	if bot != nil {
		d.Live = bot.IsLive()
		d.Bot = bot.Nick()
	}
	return d
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
