package models

type Dealer struct {
	ID            ID       `json:"id"`
	Name          string   `json:"name"`
	Phone         Phone    `json:"phone"`
	Email         string   `json:"email,omitempty"`
	ServiceAreas  []string `json:"serviceAreas"`
	Specialties   []string `json:"specialties"`
	Rating        float64  `json:"rating"`
	CompletedJobs int      `json:"completedJobs"`
	Active        bool     `json:"active"`
}

func (d *Dealer) GetID() ID   { return d.ID }
func (d *Dealer) SetID(id ID) { d.ID = id }

// ScrapType is reference data for pricing.
type ScrapType struct {
	ID          ID      `json:"id"`
	Name        string  `json:"name"`
	PricePerKg  float64 `json:"pricePerKg"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

func (s *ScrapType) GetID() ID   { return s.ID }
func (s *ScrapType) SetID(id ID) { s.ID = id }
