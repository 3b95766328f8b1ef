package remote

import "time"

// metadataWire is the over-the-wire shape of a single metadata entry;
// the server tags which variant it is with Tag.
type metadataWire struct {
	Tag            string    `json:".tag"`
	Path           string    `json:"path_display"`
	Rev            string    `json:"rev"`
	ContentHash    string    `json:"content_hash"`
	Size           int64     `json:"size"`
	ServerModified time.Time `json:"server_modified"`
}

func (m metadataWire) toMetadata() Metadata {
	kind := KindFile
	switch m.Tag {
	case "folder":
		kind = KindFolder
	case "deleted":
		kind = KindDeleted
	}
	return Metadata{
		Kind:           kind,
		Path:           m.Path,
		Rev:            m.Rev,
		Hash:           m.ContentHash,
		Size:           m.Size,
		ServerModified: m.ServerModified,
	}
}

type listResultWire struct {
	Entries []metadataWire `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

func (l listResultWire) toListResult() *ListResult {
	entries := make([]Metadata, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, e.toMetadata())
	}
	return &ListResult{Entries: entries, Cursor: l.Cursor, HasMore: l.HasMore}
}
