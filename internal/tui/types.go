package tui

// view is a dashboard panel.
type view int

const (
	viewSetups view = iota
	viewWorkers
	viewSnapshots
	viewRegistry
	viewResult
)

// panels are cycled with tab, in order.
var panels = []view{viewSetups, viewWorkers, viewSnapshots, viewRegistry}

func (v view) String() string {
	switch v {
	case viewSetups:
		return "Setups"
	case viewWorkers:
		return "Workers"
	case viewSnapshots:
		return "Snapshots"
	case viewRegistry:
		return "Registry"
	case viewResult:
		return "Result"
	}
	return "?"
}
