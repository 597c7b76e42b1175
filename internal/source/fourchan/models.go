package fourchan

// apiThread represents the thread JSON document. Posts are returned oldest
// first; posts[0] is the topic and carries the thread-level flags.
type apiThread struct {
	Posts []apiPost `json:"posts"`
}

type apiPost struct {
	No       int64  `json:"no"`
	Time     int64  `json:"time"`
	Name     string `json:"name"`
	Trip     string `json:"trip"`
	PosterID string `json:"id"`
	Sub      string `json:"sub"`
	Com      string `json:"com"`
	Tim      int64  `json:"tim"`
	Ext      string `json:"ext"`

	// Topic-only fields.
	Replies   int `json:"replies"`
	Images    int `json:"images"`
	Sticky    int `json:"sticky"`
	Archived  int `json:"archived"`
	BumpLimit int `json:"bumplimit"`
}

// apiBoards represents the board directory document.
type apiBoards struct {
	Boards []apiBoard `json:"boards"`
}

type apiBoard struct {
	Board string `json:"board"`
	Title string `json:"title"`
}
