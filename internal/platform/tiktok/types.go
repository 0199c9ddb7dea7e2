package tiktok

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type initResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type statusResponse struct {
	Data struct {
		Status                   string   `json:"status"`
		FailReason               string   `json:"fail_reason"`
		PubliclyAvailablePostIDs []int64  `json:"publicaly_available_post_id"`
		UploadedBytes            int64    `json:"uploaded_bytes"`
		DownloadedBytes          int64    `json:"downloaded_bytes"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type creatorInfoResponse struct {
	Data struct {
		CreatorUsername         string   `json:"creator_username"`
		PrivacyLevelOptions     []string `json:"privacy_level_options"`
		MaxVideoPostDurationSec int32    `json:"max_video_post_duration_sec"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type videoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type photoPostInfo struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableComment bool   `json:"disable_comment"`
	AutoAddMusic   bool   `json:"auto_add_music"`
}

type videoSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type photoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type videoInitRequest struct {
	PostInfo   videoPostInfo   `json:"post_info"`
	SourceInfo videoSourceInfo `json:"source_info"`
}

type photoInitRequest struct {
	PostInfo   photoPostInfo   `json:"post_info"`
	SourceInfo photoSourceInfo `json:"source_info"`
	PostMode   string          `json:"post_mode"`
	MediaType  string          `json:"media_type"`
}
