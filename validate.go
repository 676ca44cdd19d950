package taskauth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	namePattern     = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9\-()\s]+$`)
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || utf8.RuneCountInString(email) > 255 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

func checkEmail(email string) []string {
	switch {
	case email == "":
		return []string{"Email is required"}
	case utf8.RuneCountInString(email) > 255:
		return []string{"Email must not exceed 255 characters"}
	case !validEmail(email):
		return []string{"Must be a valid email address"}
	}
	return nil
}

func checkUsername(username string) []string {
	var out []string
	n := utf8.RuneCountInString(username)
	switch {
	case username == "":
		return []string{"Username is required"}
	case n < 3:
		out = append(out, "Username must be at least 3 characters long")
	case n > 100:
		out = append(out, "Username must not exceed 100 characters")
	}
	if !usernamePattern.MatchString(username) {
		out = append(out, "Username must contain only alphanumeric characters")
	}
	return out
}

func checkName(name string) []string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return []string{"Name is required"}
	case utf8.RuneCountInString(name) > 100:
		return []string{"Name must not exceed 100 characters"}
	case !namePattern.MatchString(name):
		return []string{"Name can only contain letters, spaces, hyphens, and apostrophes"}
	}
	return nil
}

func checkDepartment(dep string) []string {
	if utf8.RuneCountInString(strings.TrimSpace(dep)) > 100 {
		return []string{"Department must not exceed 100 characters"}
	}
	return nil
}

func checkPhone(phone string) []string {
	if phone == "" {
		return nil
	}
	var out []string
	if !phonePattern.MatchString(phone) {
		out = append(out, "Phone number must be valid")
	}
	if utf8.RuneCountInString(phone) > 20 {
		out = append(out, "Phone number must not exceed 20 characters")
	}
	return out
}

func (e *Engine) checkRole(role string) []string {
	if e.roles.Exists(role) {
		return nil
	}
	return []string{"Role must be one of: admin, manager, caseworker, viewer"}
}

func (e *Engine) checkPassword(plain string) []string {
	if plain == "" {
		return []string{"Password is required"}
	}
	return e.config.Password.Policy.Check(plain)
}

func (e *Engine) validateRegister(req *RegisterRequest) []string {
	var details []string
	details = append(details, checkEmail(req.Email)...)
	details = append(details, checkUsername(req.Username)...)
	details = append(details, e.checkPassword(req.Password)...)
	details = append(details, checkName(req.FirstName)...)
	details = append(details, checkName(req.LastName)...)
	details = append(details, e.checkRole(req.Role)...)
	details = append(details, checkDepartment(req.Department)...)
	details = append(details, checkPhone(req.Phone)...)
	return details
}

func validateProfileUpdate(upd ProfileUpdate) []string {
	var details []string
	if upd.FirstName != nil {
		details = append(details, checkName(*upd.FirstName)...)
	}
	if upd.LastName != nil {
		details = append(details, checkName(*upd.LastName)...)
	}
	if upd.Department != nil {
		details = append(details, checkDepartment(*upd.Department)...)
	}
	if upd.Phone != nil {
		details = append(details, checkPhone(*upd.Phone)...)
	}
	return details
}
