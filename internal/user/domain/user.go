package domain

import "time"

type ID string

type User struct {
	ID           ID
	Username     string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

type Summary struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (u User) Summary() Summary {
	return Summary{ID: u.ID, Username: u.Username, Name: u.Name}
}
