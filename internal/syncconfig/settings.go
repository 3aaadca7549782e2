package syncconfig

import "github.com/starford/granola-companion/internal/models"

// Values of Settings.BaseFolderType.
const (
	BaseFolderRoot   = "root"
	BaseFolderCustom = "custom"
)

// Values of Settings.TranscriptHandling.
const (
	TranscriptSameLocation   = "same-location"
	TranscriptCustomLocation = "custom-location"
)

// Settings mirrors the upstream plugin's data.json.
type Settings struct {
	IsSyncEnabled       bool `json:"isSyncEnabled"`
	SyncInterval        int  `json:"syncInterval"`
	SyncDaysBack        int  `json:"syncDaysBack"`
	SyncNotes           bool `json:"syncNotes"`
	IncludePrivateNotes bool `json:"includePrivateNotes"`

	SaveAsIndividualFiles bool   `json:"saveAsIndividualFiles"`
	BaseFolderType        string `json:"baseFolderType"`
	CustomBaseFolder      string `json:"customBaseFolder"`
	SubfolderPattern      string `json:"subfolderPattern"`
	FilenamePattern       string `json:"filenamePattern"`

	SyncTranscripts            bool   `json:"syncTranscripts"`
	TranscriptHandling         string `json:"transcriptHandling"`
	CustomTranscriptBaseFolder string `json:"customTranscriptBaseFolder"`
	TranscriptSubfolderPattern string `json:"transcriptSubfolderPattern"`
	TranscriptFilenamePattern  string `json:"transcriptFilenamePattern"`

	LinkFromDailyNotes      bool   `json:"linkFromDailyNotes"`
	DailyNoteLinkHeading    string `json:"dailyNoteLinkHeading"`
	DailyNoteSectionHeading string `json:"dailyNoteSectionHeading"`

	LatestSyncTime int64 `json:"latestSyncTime"`
}

// DefaultSettings returns the values assumed for fields upstream may omit.
// Decoding a data file on top of it yields the merged settings.
func DefaultSettings() Settings {
	return Settings{
		SyncTranscripts:            false,
		TranscriptHandling:         TranscriptSameLocation,
		CustomTranscriptBaseFolder: "",
		TranscriptFilenamePattern:  "{title} - {date} - transcript",
		FilenamePattern:            "{title} - {date}",
	}
}

// Classify returns the document class of p.
func (r *Reader) Classify(p string) models.DocClass {
	if r.IsTranscript(p) {
		return models.ClassTranscript
	}
	return models.ClassNote
}
