package db

// contacts.go holds the contact queries of the partition store.

import (
	"context"
	"fmt"
)

// Contact is a cached customer contact.
type Contact struct {
	ID       string  `db:"id"        json:"ID"`
	Name     string  `db:"name"      json:"NAME"`
	LastName *string `db:"last_name" json:"LAST_NAME"`
	Phone    *string `db:"phone"     json:"PHONE"`
}

func (c Contact) args() map[string]any {
	return map[string]any{
		"ID":       c.ID,
		"Name":     c.Name,
		"LastName": nullable(c.LastName),
		"Phone":    nullable(c.Phone),
	}
}

// Contacts returns all cached contacts.
func (db *DB) Contacts(ctx context.Context) ([]Contact, error) {
	stmts, release := db.acquire()
	defer release()
	stmt := stmts.contactsGet
	namedArgs := map[string]any{}

	var contacts []Contact
	err := stmt.SelectContext(ctx, &contacts, namedArgs)
	db.logQuery(stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("contacts select error: %w", err)
	}
	return contacts, nil
}

// DeleteContact removes a contact, reporting whether the row existed. Deals
// referring to the contact are kept; their contact no longer resolves.
func (db *DB) DeleteContact(ctx context.Context, contactID string) (bool, error) {
	stmts, release := db.acquire()
	defer release()
	namedArgs := map[string]any{
		"ContactID": contactID,
	}
	n, err := db.exec(ctx, nil, stmts.contactDelete, namedArgs)
	if err != nil {
		return false, fmt.Errorf("failed to delete contact %s: %w", contactID, err)
	}
	return n > 0, nil
}
