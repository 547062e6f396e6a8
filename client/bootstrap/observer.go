package bootstrap

// Step 安装进度中的一个阶段
type Step string

const (
	StepFileSystem Step = "fileSystem"
	StepDatabase   Step = "database"
	StepConfig     Step = "config"
	StepReady      Step = "ready"
)

type ProgressEvent struct {
	Step      Step   `json:"step"`
	Completed bool   `json:"completed"`
	Message   string `json:"message"`
}

// Observer 接收进度与日志事件。回调同步执行且可能来自不同 goroutine，实现需并发安全且不应阻塞
type Observer interface {
	OnProgress(ProgressEvent)
	OnLog(string)
}

// ObserverFuncs 用函数实现 Observer，未设置的回调被忽略
type ObserverFuncs struct {
	Progress func(ProgressEvent)
	Log      func(string)
}

func (o ObserverFuncs) OnProgress(e ProgressEvent) {
	if o.Progress != nil {
		o.Progress(e)
	}
}

func (o ObserverFuncs) OnLog(msg string) {
	if o.Log != nil {
		o.Log(msg)
	}
}

// Event 通过 channel 传递的事件，Progress 为空时表示一条日志
type Event struct {
	Progress *ProgressEvent `json:"progress,omitempty"`
	Log      string         `json:"log,omitempty"`
}

// ChannelObserver 把事件写入 channel。channel 已满时丢弃事件，不阻塞安装流程
type ChannelObserver chan Event

func (c ChannelObserver) OnProgress(e ProgressEvent) {
	select {
	case c <- Event{Progress: &e}:
	default:
	}
}

func (c ChannelObserver) OnLog(msg string) {
	select {
	case c <- Event{Log: msg}:
	default:
	}
}

// Observers 把事件依次分发给多个 Observer
type Observers []Observer

func (obs Observers) OnProgress(e ProgressEvent) {
	for _, o := range obs {
		if o != nil {
			o.OnProgress(e)
		}
	}
}

func (obs Observers) OnLog(msg string) {
	for _, o := range obs {
		if o != nil {
			o.OnLog(msg)
		}
	}
}
