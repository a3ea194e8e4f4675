package shared

// FlashMessage is a one-time notification shown on the next page the
// browser loads.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
