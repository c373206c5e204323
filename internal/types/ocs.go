package types

// OCSEnvelope is the outer wrapper every OCS API response carries.
type OCSEnvelope[T any] struct {
	OCS OCSBody[T] `json:"ocs"`
}

type OCSBody[T any] struct {
	Meta OCSMeta `json:"meta"`
	Data T       `json:"data"`
}

// OCSMeta is decoded but not evaluated; the HTTP status is
// authoritative.
type OCSMeta struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statuscode"`
	Message    string `json:"message"`
}
