package importer

import (
	"encoding/json"
	"fmt"

	"github.com/forest6511/grimoire/pkg/secret"
)

// BitwardenParser parses Bitwarden JSON export files.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

type bitwardenItem struct {
	Type     int                    `json:"type"`
	Name     string                 `json:"name"`
	Notes    string                 `json:"notes"`
	Login    *bitwardenLogin        `json:"login"`
	Card     *bitwardenCard         `json:"card"`
	Identity *bitwardenIdentity     `json:"identity"`
	Fields   []bitwardenCustomField `json:"fields"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

type bitwardenCard struct {
	CardholderName string `json:"cardholderName"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
}

type bitwardenIdentity struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data. Encrypted exports are rejected.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("importer: encrypted Bitwarden exports are not supported")
	}

	result := &Result{}
	counter := 0
	for i := range export.Items {
		item := &export.Items[i]
		var b builder
		var url string

		switch item.Type {
		case bitwardenTypeLogin:
			if item.Login != nil {
				b.add("username", item.Login.Username)
				b.add("password", item.Login.Password)
				b.add("totp", item.Login.TOTP)
				for _, u := range item.Login.URIs {
					b.add("url", u.URI)
					if url == "" {
						url = u.URI
					}
				}
			}
		case bitwardenTypeSecureNote:
		case bitwardenTypeCard:
			if item.Card != nil {
				b.add("cardholder", item.Card.CardholderName)
				b.add("number", item.Card.Number)
				if item.Card.ExpMonth != "" || item.Card.ExpYear != "" {
					b.add("expiry", item.Card.ExpMonth+"/"+item.Card.ExpYear)
				}
				b.add("code", item.Card.Code)
			}
		case bitwardenTypeIdentity:
			if item.Identity != nil {
				b.add("first_name", item.Identity.FirstName)
				b.add("last_name", item.Identity.LastName)
				b.add("username", item.Identity.Username)
				b.add("email", item.Identity.Email)
				b.add("phone", item.Identity.Phone)
			}
		default:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("item %d (%s): unsupported item type: %d", i+1, item.Name, item.Type))
			continue
		}

		for _, cf := range item.Fields {
			key := cf.Name
			if IsEmptyOrWhitespace(key) {
				key = "custom_field"
			}
			b.add(key, cf.Value)
		}
		b.add("notes", item.Notes)

		if len(b.pairs) == 0 {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "no useful data"})
			continue
		}
		result.Secrets = append(result.Secrets, secret.New(secretName(item.Name, url, &counter), b.pairs))
	}
	return result, nil
}
