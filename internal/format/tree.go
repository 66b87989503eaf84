package format

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"canvas-sync/internal/model"
)

type TreeOpts struct {
	// Archived lists archived snapshots under their parents.
	Archived bool
	// Content renders markdown node bodies below their line.
	Content bool
	// Width is the wrap width for rendered content. Defaults to 80.
	Width int
	// Profile forces a color profile. Zero detects it from w.
	Profile *termenv.Profile
}

// presetColors maps color preset ids to terminal colors. Unknown presets
// render uncolored.
var presetColors = map[string]lipgloss.Color{
	"red":    lipgloss.Color("#d16d7a"),
	"orange": lipgloss.Color("#f39c12"),
	"yellow": lipgloss.Color("#e5c07b"),
	"green":  lipgloss.Color("#98c379"),
	"teal":   lipgloss.Color("#5f9fb0"),
	"blue":   lipgloss.Color("#61afef"),
	"purple": lipgloss.Color("#c678dd"),
	"gray":   lipgloss.Color("#6c757d"),
}

type treeStyles struct {
	branch   lipgloss.Style
	kind     lipgloss.Style
	meta     lipgloss.Style
	archived lipgloss.Style
	renderer *lipgloss.Renderer
}

func newTreeStyles(w io.Writer, p termenv.Profile) treeStyles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(p)
	return treeStyles{
		branch:   r.NewStyle().Foreground(lipgloss.Color("#6c757d")),
		kind:     r.NewStyle().Bold(true),
		meta:     r.NewStyle().Faint(true),
		archived: r.NewStyle().Faint(true).Italic(true),
		renderer: r,
	}
}

func (s treeStyles) name(color, text string) string {
	c, ok := presetColors[color]
	if !ok {
		return text
	}
	return s.renderer.NewStyle().Foreground(c).Render(text)
}

// profileFor honors NO_COLOR and CLICOLOR via termenv, and never colors
// output that is not a terminal.
func ProfileFor(w io.Writer) termenv.Profile {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return termenv.Ascii
	}
	f, ok := w.(*os.File)
	if !ok {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// WriteTree renders st as an indented tree, children ordered by z-index.
func WriteTree(w io.Writer, st model.ServerState, opts TreeOpts) error {
	profile := ProfileFor(w)
	if opts.Profile != nil {
		profile = *opts.Profile
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	tw := &treeWriter{
		st:       st,
		opts:     opts,
		styles:   newTreeStyles(w, profile),
		profile:  profile,
		children: childIndex(st.Nodes),
		seen:     map[string]bool{},
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", tw.styles.kind.Render("canvas"), tw.styles.meta.Render(fmt.Sprintf("v%d, %d nodes", st.Version, len(st.Nodes))))
	tw.writeLevel(&b, model.RootID, "", "")
	if opts.Archived {
		tw.writeArchived(&b, st.RootArchivedChildren, "")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

type treeWriter struct {
	st       model.ServerState
	opts     TreeOpts
	styles   treeStyles
	profile  termenv.Profile
	children map[string][]string
	seen     map[string]bool
}

func childIndex(nodes map[string]model.Node) map[string][]string {
	out := map[string][]string{}
	for id, n := range nodes {
		out[n.ParentID] = append(out[n.ParentID], id)
	}
	for _, ids := range out {
		sort.Slice(ids, func(i, j int) bool {
			a, b := nodes[ids[i]], nodes[ids[j]]
			if a.ZIndex != b.ZIndex {
				return a.ZIndex < b.ZIndex
			}
			return a.ID < b.ID
		})
	}
	return out
}

func (tw *treeWriter) writeLevel(b *strings.Builder, parentID, prefix, inherited string) {
	ids := tw.children[parentID]
	for i, id := range ids {
		if tw.seen[id] {
			continue
		}
		tw.seen[id] = true
		n := tw.st.Nodes[id]
		last := i == len(ids)-1
		connector, next := "├── ", "│   "
		if last {
			connector, next = "└── ", "    "
		}
		color := inherited
		if n.ColorPresetID != nil && *n.ColorPresetID != model.ColorInherit && *n.ColorPresetID != "" {
			color = *n.ColorPresetID
		}
		b.WriteString(tw.styles.branch.Render(prefix + connector))
		b.WriteString(tw.line(n, color))
		b.WriteByte('\n')

		if tw.opts.Content {
			tw.writeContent(b, n, prefix+next)
		}
		tw.writeLevel(b, id, prefix+next, color)
		if tw.opts.Archived {
			tw.writeArchived(b, n.ArchivedChildren, prefix+next)
		}
	}
}

func (tw *treeWriter) line(n model.Node, color string) string {
	parts := []string{
		tw.styles.name(color, n.DisplayName()),
		tw.styles.kind.Render("[" + string(n.Kind()) + "]"),
		tw.styles.meta.Render(fmt.Sprintf("%s (%g,%g) z%d", n.ID, n.X, n.Y, n.ZIndex)),
	}
	if term, ok := n.Payload.(*model.Terminal); ok && term.Claude != nil {
		state := string(term.Claude.State)
		if !term.Claude.Seen {
			state += "*"
		}
		parts = append(parts, tw.styles.meta.Render("claude:"+state))
	}
	return strings.Join(parts, " ")
}

func (tw *treeWriter) writeArchived(b *strings.Builder, xs []model.ArchivedNode, prefix string) {
	for _, a := range xs {
		label := fmt.Sprintf("%s %s archived %s", a.Data.DisplayName(), a.Data.ID, a.ArchivedAt.Format("2006-01-02 15:04"))
		b.WriteString(tw.styles.branch.Render(prefix + "  ~ "))
		b.WriteString(tw.styles.archived.Render(label))
		b.WriteByte('\n')
		tw.writeArchived(b, a.Data.ArchivedChildren, prefix+"    ")
	}
}

func (tw *treeWriter) writeContent(b *strings.Builder, n model.Node, prefix string) {
	md, ok := n.Payload.(*model.Markdown)
	if !ok || strings.TrimSpace(md.Content) == "" {
		return
	}
	out := RenderMarkdown(md.Content, tw.opts.Width-len([]rune(prefix)), tw.profile)
	for _, l := range strings.Split(out, "\n") {
		b.WriteString(tw.styles.branch.Render(prefix))
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

var (
	mdRendererMu sync.Mutex
	// Keyed by style and wrap width.
	mdRenderers = map[string]*glamour.TermRenderer{}
)

// RenderMarkdown renders md for a terminal with profile p, wrapped to width.
// It falls back to the raw text if rendering fails.
func RenderMarkdown(md string, width int, p termenv.Profile) string {
	md = strings.TrimSpace(md)
	if width < 20 {
		width = 20
	}
	style := "dark"
	if p == termenv.Ascii {
		style = "notty"
	}
	key := fmt.Sprintf("%s:%d", style, width)

	mdRendererMu.Lock()
	defer mdRendererMu.Unlock()
	r := mdRenderers[key]
	if r == nil {
		// WithAutoStyle can block on terminal background queries.
		rr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return md
		}
		mdRenderers[key] = rr
		r = rr
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
