package dedupe

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joseph-ayodele/docqueue/internal/entity"
)

type identity struct {
	email string
	phone string
}

type contactDoc struct {
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

func (c *contactDoc) empty() bool {
	return c == nil || (c.Email == nil && c.Phone == nil)
}

type artifactDoc struct {
	Contact    *contactDoc `json:"contact"`
	Normalized *struct {
		Contact *contactDoc `json:"contact"`
	} `json:"normalized"`
}

// identityFromFile reads the normalized email and phone of an artifact.
// A normalized contact block takes precedence over the top-level one
// unless it carries neither an email nor a phone.
func identityFromFile(path string) (identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return identity{}, err
	}
	var doc artifactDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return identity{}, fmt.Errorf("decode %s: %w", path, err)
	}

	contact := doc.Contact
	if doc.Normalized != nil && !doc.Normalized.Contact.empty() {
		contact = doc.Normalized.Contact
	}
	if contact == nil {
		return identity{}, nil
	}
	var id identity
	if contact.Email != nil {
		id.email = entity.NormalizeEmail(*contact.Email)
	}
	if contact.Phone != nil {
		id.phone = entity.NormalizePhone(*contact.Phone)
	}
	return id, nil
}
