package record

// Node is an object that takes part in a save graph.
//
// Save writes the node's state. LoadingCompleted runs once the whole
// capsule has been rebuilt and every reference callback has fired.
type Node interface {
	Save(w *Writer) error
	LoadingCompleted()
}

// Loader is implemented by nodes built with an empty constructor and then
// populated from their record.
type Loader interface {
	Load(r *Reader)
}

// Capsule is the root of a save graph.
type Capsule interface {
	Node
	Loader
	ID() string
}

// Tagger lets a node name its registry tag instead of relying on its Go
// type.
type Tagger interface {
	NodeTag() string
}
