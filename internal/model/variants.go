package model

import "time"

// ClaudeState is the agent state reported for a terminal running a Claude session.
type ClaudeState string

const (
	ClaudePermission ClaudeState = "permission"
	ClaudeQuestion   ClaudeState = "question"
	ClaudeIdle       ClaudeState = "idle"
	ClaudeDormant    ClaudeState = "dormant"
	ClaudeBusy       ClaudeState = "busy"
)

type ClaudeStatus struct {
	State  ClaudeState `json:"state"`
	Seen   bool        `json:"seen"`
	Hidden bool        `json:"hidden,omitempty"`
}

type TerminalSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

type Terminal struct {
	Cwd            string            `json:"cwd"`
	Alive          bool              `json:"alive"`
	Cols           int               `json:"cols"`
	Rows           int               `json:"rows"`
	CreatedAt      time.Time         `json:"createdAt"`
	Claude         *ClaudeStatus     `json:"claude,omitempty"`
	SessionHistory []TerminalSession `json:"sessionHistory,omitempty"`
}

func (*Terminal) Kind() Kind { return KindTerminal }

func (t *Terminal) clonePayload() Payload {
	out := *t
	if t.Claude != nil {
		c := *t.Claude
		out.Claude = &c
	}
	if t.SessionHistory != nil {
		out.SessionHistory = make([]TerminalSession, len(t.SessionHistory))
		for i, s := range t.SessionHistory {
			if s.EndedAt != nil {
				e := *s.EndedAt
				s.EndedAt = &e
			}
			out.SessionHistory[i] = s
		}
	}
	return &out
}

type Markdown struct {
	Content string  `json:"content"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func (*Markdown) Kind() Kind { return KindMarkdown }

func (m *Markdown) clonePayload() Payload {
	out := *m
	return &out
}

type GitStatus struct {
	Branch string `json:"branch"`
	Ahead  int    `json:"ahead"`
	Behind int    `json:"behind"`
	Dirty  bool   `json:"dirty"`
}

type Directory struct {
	Cwd       string     `json:"cwd"`
	GitStatus *GitStatus `json:"gitStatus,omitempty"`
}

func (*Directory) Kind() Kind { return KindDirectory }

func (d *Directory) clonePayload() Payload {
	out := *d
	if d.GitStatus != nil {
		g := *d.GitStatus
		out.GitStatus = &g
	}
	return &out
}

type File struct {
	Path   string  `json:"path"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (*File) Kind() Kind { return KindFile }

func (f *File) clonePayload() Payload {
	out := *f
	return &out
}

type Title struct {
	Text string `json:"text"`
}

func (*Title) Kind() Kind { return KindTitle }

func (t *Title) clonePayload() Payload {
	out := *t
	return &out
}
