package bitrix

// contacts.go covers crm contacts.

import (
	"context"
	"fmt"
)

// ListContactsSince returns the contacts with an id above watermark, or all contacts
// if watermark is nil.
func (c *Client) ListContactsSince(ctx context.Context, watermark *int64) ([]Contact, error) {
	params := map[string]any{
		"select": []string{"ID", "NAME", "LAST_NAME", "PHONE"},
		"order":  map[string]string{"ID": "ASC"},
	}
	if watermark != nil {
		params["filter"] = map[string]any{">ID": *watermark}
	}
	contacts, err := list(ctx, c, "crm.contact.list", params, itself[Contact])
	if err != nil {
		return nil, err
	}
	c.log.Info(fmt.Sprintf("ListContactsSince: retrieved %d contacts", len(contacts)))
	return contacts, nil
}

// CreateContact adds a contact, returning its id.
func (c *Client) CreateContact(ctx context.Context, f ContactFields) (ID, error) {
	fields := map[string]any{
		"NAME": f.Name,
	}
	if f.LastName != "" {
		fields["LAST_NAME"] = f.LastName
	}
	if f.Phone != "" {
		fields["PHONE"] = []Multifield{{Value: f.Phone, ValueType: "PHONE"}}
	}
	env, err := call[ID](ctx, c, "crm.contact.add", map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}
	if env.Result == "" {
		return "", fmt.Errorf("crm.contact.add returned no id")
	}
	c.log.Info(fmt.Sprintf("CreateContact: created contact %s", env.Result))
	return env.Result, nil
}
