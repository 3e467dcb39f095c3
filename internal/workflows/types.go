package workflows

// CorpusIngestInput fans a directory of PDFs out to per-document child
// workflows.
type CorpusIngestInput struct {
	RunID                 string
	InputDir              string
	ChunkSize             int
	ChunkOverlap          int
	MaxConcurrentChildren int
}

type CorpusIngestProgress struct {
	RunID         string
	Total         int
	Done          int
	Skipped       int
	Failed        int
	PerDocument   map[string]string
	ChildWorkflow map[string]string
}

type DocumentIngestInput struct {
	RunID        string
	Path         string
	ChunkSize    int
	ChunkOverlap int
}

// DocumentStatus is exposed through a workflow query while the child
// runs and summarizes the outcome afterwards.
type DocumentStatus struct {
	Path        string
	DocumentID  string
	FileHash    string
	Route       string
	CurrentStep string
	Steps       map[string]string
	Status      string
	FailReason  string
	ChunkCount  int
}
