package models

// StoreRequest is the body of POST /modalities/{id}/store and /peers/{id}/store
type StoreRequest struct {
	Resources         []string `json:"Resources"`
	Asynchronous      bool     `json:"Asynchronous"`
	Compress          bool     `json:"Compress"`
	Permissive        bool     `json:"Permissive"`
	Priority          int      `json:"Priority"`
	Synchronous       bool     `json:"Synchronous"`
	MoveOriginatorAet string   `json:"MoveOriginatorAet"`
	MoveOriginatorID  int      `json:"MoveOriginatorID"`
	StorageCommitment bool     `json:"StorageCommitment"`
}

// StudyMetadata is the subset of GET /studies/{id} the router reads.
// Tag values that are not strings in the archive's answer are flattened by the client.
type StudyMetadata struct {
	ID                   string            `json:"ID"`
	MainDicomTags        map[string]string `json:"MainDicomTags"`
	PatientMainDicomTags map[string]string `json:"PatientMainDicomTags"`
	RequestedTags        map[string]string `json:"RequestedTags"`
}

// Change is one entry of the archive's change log
type Change struct {
	ChangeType   string `json:"ChangeType"`
	ID           string `json:"ID"`
	Path         string `json:"Path,omitempty"`
	ResourceType string `json:"ResourceType,omitempty"`
	Seq          int64  `json:"Seq"`
	Date         string `json:"Date,omitempty"`
}

// ChangeTypeStableStudy is the change emitted once a study stops receiving instances
const ChangeTypeStableStudy = "StableStudy"

// ChangesPage is the answer of GET /changes
type ChangesPage struct {
	Changes []Change `json:"Changes"`
	Done    bool     `json:"Done"`
	Last    int64    `json:"Last"`
}

// FindRequest is the body of POST /tools/find
type FindRequest struct {
	Level string            `json:"Level"`
	Query map[string]string `json:"Query"`
}

// BulkDeleteRequest is the body of POST /tools/bulk-delete
type BulkDeleteRequest struct {
	Resources []string `json:"Resources"`
}
