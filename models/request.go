package models

// RequestStatus represents the states of a pickup request
type RequestStatus string

const (
	StatusPending   RequestStatus = "Pending"
	StatusAssigned  RequestStatus = "Assigned"
	StatusEnRoute   RequestStatus = "En Route"
	StatusCompleted RequestStatus = "Completed"
)

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusEnRoute, StatusCompleted:
		return true
	}
	return false
}

// ScrapLine is one material in a request. AppliedRate is the price per kg
// snapshotted at creation time.
type ScrapLine struct {
	Type        string   `json:"type"`
	Quantity    float64  `json:"quantity"`
	AppliedRate *float64 `json:"appliedRate,omitempty"`
}

type Image struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

type Request struct {
	ID            ID            `json:"id"`
	CustomerName  string        `json:"customerName"`
	Phone         Phone         `json:"phone"`
	Address       string        `json:"address"`
	Lat           *float64      `json:"lat,omitempty"`
	Lng           *float64      `json:"lng,omitempty"`
	ScrapTypes    []ScrapLine   `json:"scrapTypes"`
	PreferredDate string        `json:"preferredDate"`
	PreferredTime string        `json:"preferredTime"`
	Instructions  string        `json:"instructions,omitempty"`
	Status        RequestStatus `json:"status"`
	RequestDate   string        `json:"requestDate"`
	DealerID      *ID           `json:"dealerId"`
	Images        []Image       `json:"images,omitempty"`
}

func (r *Request) GetID() ID   { return r.ID }
func (r *Request) SetID(id ID) { r.ID = id }

// AssignedTo reports whether the request is held by the given dealer.
func (r Request) AssignedTo(dealerID ID) bool {
	return r.DealerID != nil && *r.DealerID == dealerID
}
