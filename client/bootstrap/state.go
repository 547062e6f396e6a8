package bootstrap

type State int

const (
	StateIdle State = iota
	StateFileSystemReady
	StateManifestChecked
	StateUpToDate
	StateDatabaseUpdating
	StatePlaceholderCreated
	StateConfigApplied
	StateReady
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateFileSystemReady:    "file-system-ready",
	StateManifestChecked:    "manifest-checked",
	StateUpToDate:           "up-to-date",
	StateDatabaseUpdating:   "database-updating",
	StatePlaceholderCreated: "placeholder-created",
	StateConfigApplied:      "config-applied",
	StateReady:              "ready",
	StateFailed:             "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Progress 各阶段是否完成
type Progress struct {
	FileSystem bool `json:"fileSystem"`
	Database   bool `json:"database"`
	Config     bool `json:"config"`
	Ready      bool `json:"ready"`
}

func (p *Progress) set(step Step, completed bool) {
	switch step {
	case StepFileSystem:
		p.FileSystem = completed
	case StepDatabase:
		p.Database = completed
	case StepConfig:
		p.Config = completed
	case StepReady:
		p.Ready = completed
	}
}

type Status struct {
	Progress      Progress `json:"progress"`
	State         State    `json:"state"`
	IsComplete    bool     `json:"isComplete"`
	ReadyToLaunch bool     `json:"readyToLaunch"`
}
