package model

// ServerState is the canonical document: the server's last-known-true tree.
type ServerState struct {
	Version              int             `json:"version"`
	NextZIndex           int             `json:"nextZIndex"`
	Nodes                map[string]Node `json:"nodes"`
	RootArchivedChildren []ArchivedNode  `json:"rootArchivedChildren"`
}

func NewServerState() ServerState {
	return ServerState{
		Version:              1,
		NextZIndex:           1,
		Nodes:                map[string]Node{},
		RootArchivedChildren: []ArchivedNode{},
	}
}

func (s ServerState) Clone() ServerState {
	out := ServerState{
		Version:              s.Version,
		NextZIndex:           s.NextZIndex,
		Nodes:                make(map[string]Node, len(s.Nodes)),
		RootArchivedChildren: CloneArchived(s.RootArchivedChildren),
	}
	for id, n := range s.Nodes {
		out.Nodes[id] = n.Clone()
	}
	if out.RootArchivedChildren == nil {
		out.RootArchivedChildren = []ArchivedNode{}
	}
	return out
}
