package handler

import (
	"errors"
	"net/http"

	"github.com/freekieb7/usermanager/internal/api"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
	"github.com/freekieb7/usermanager/internal/form"
	"github.com/freekieb7/usermanager/internal/session"
	"github.com/freekieb7/usermanager/internal/user"
)

// listUsers fetches the users for a page. It answers the request itself and returns
// false when the fetch failed.
func (h *UIHandler) listUsers(w http.ResponseWriter, r *http.Request, page string, data pageData) ([]user.User, bool) {
	users, err := h.API.ListUsers(r.Context())
	if err == nil {
		return users, true
	}

	if errors.Is(err, api.ErrSessionInvalid) {
		h.expireSession(w, r, err)
		return nil, false
	}

	appErr := backendError(err, "Failed to load users")
	h.logBackendError(r.Context(), "Failed to list users", appErr)

	data.Flashes = h.errorFlash(appErr)
	h.render(w, r, appErr.HTTPCode, page, data)
	return nil, false
}

func (h *UIHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Dashboard", Active: "dashboard"}

	users, ok := h.listUsers(w, r, pageDashboard, data)
	if !ok {
		return
	}

	data.Users = users
	h.render(w, r, http.StatusOK, pageDashboard, data)
}

func (h *UIHandler) HandleCreateUserGet(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pageCreateUser, pageData{
		Title:  "Create user",
		Active: "create",
		Form:   user.Input{Type: user.TypeUser},
	})
}

// decodeUserInput binds and validates the user form. On failure the page is rendered
// again with the inline messages and no backend call is made.
func (h *UIHandler) decodeUserInput(w http.ResponseWriter, r *http.Request, page string, data pageData) (user.Input, bool) {
	ctx := r.Context()

	var in user.Input
	if err := form.Decode(r, &in); err != nil {
		h.Logger.WarnContext(ctx, "Failed to decode user form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return in, false
	}
	in.Normalize()

	if errs := form.Validate(&in); errs != nil {
		appErr := apperrors.ValidationError("User form rejected", nil)
		h.Logger.InfoContext(ctx, appErr.Message, "code", appErr.Code, "page", page, "fields", form.Details(&in))

		echo := in
		echo.Password = ""
		data.Form = echo
		data.Errors = errs
		h.render(w, r, appErr.HTTPCode, page, data)
		return in, false
	}

	return in, true
}

func (h *UIHandler) HandleCreateUserPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Title: "Create user", Active: "create"}

	in, ok := h.decodeUserInput(w, r, pageCreateUser, data)
	if !ok {
		return
	}

	if err := h.API.Register(ctx, in); err != nil {
		if errors.Is(err, api.ErrSessionInvalid) {
			h.expireSession(w, r, err)
			return
		}

		appErr := backendError(err, "Failed to add user")
		h.logBackendError(ctx, "Failed to create user", appErr)

		in.Password = ""
		data.Form = in
		data.Flashes = h.errorFlash(appErr)
		h.render(w, r, appErr.HTTPCode, pageCreateUser, data)
		return
	}

	h.Logger.InfoContext(ctx, "User created", "email", in.Email, "type", in.Type)
	h.redirectWithFlash(w, r, routeDashboard, session.FlashSuccess, "User added successfully!")
}

func (h *UIHandler) HandleEditUsers(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Edit users", Active: "edit"}

	users, ok := h.listUsers(w, r, pageEditUsers, data)
	if !ok {
		return
	}

	data.Users = users
	h.render(w, r, http.StatusOK, pageEditUsers, data)
}

// selectUser loads the list behind a dialog and picks the user of the {id} path
// segment. An unknown id sends the operator back to the list.
func (h *UIHandler) selectUser(w http.ResponseWriter, r *http.Request) ([]user.User, user.User, bool) {
	users, ok := h.listUsers(w, r, pageEditUsers, pageData{Title: "Edit users", Active: "edit"})
	if !ok {
		return nil, user.User{}, false
	}

	selected, found := findUser(users, r.PathValue("id"))
	if !found {
		h.Logger.InfoContext(r.Context(), "User not found in list", "id", r.PathValue("id"))
		h.redirectWithFlash(w, r, routeEditUsers, session.FlashError, "User not found")
		return nil, user.User{}, false
	}

	return users, selected, true
}

func (h *UIHandler) HandleEditUserGet(w http.ResponseWriter, r *http.Request) {
	users, selected, ok := h.selectUser(w, r)
	if !ok {
		return
	}

	h.render(w, r, http.StatusOK, pageEditUser, pageData{
		Title:    "Edit user",
		Active:   "edit",
		Users:    users,
		Selected: selected,
		Form:     user.InputFrom(selected),
	})
}

func (h *UIHandler) HandleEditUserPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	data := pageData{
		Title:    "Edit user",
		Active:   "edit",
		Selected: user.User{ID: id},
	}

	in, ok := h.decodeUserInput(w, r, pageEditUser, data)
	if !ok {
		return
	}

	if err := h.API.UpdateUser(ctx, id, in); err != nil {
		if errors.Is(err, api.ErrSessionInvalid) {
			h.expireSession(w, r, err)
			return
		}

		appErr := backendError(err, "Failed to update user")
		h.logBackendError(ctx, "Failed to update user", appErr)

		in.Password = ""
		data.Form = in
		data.Flashes = h.errorFlash(appErr)
		h.render(w, r, appErr.HTTPCode, pageEditUser, data)
		return
	}

	h.Logger.InfoContext(ctx, "User updated", "id", id)
	h.redirectWithFlash(w, r, routeEditUsers, session.FlashSuccess, "User updated successfully!")
}

func (h *UIHandler) HandleDeleteUserGet(w http.ResponseWriter, r *http.Request) {
	users, selected, ok := h.selectUser(w, r)
	if !ok {
		return
	}

	h.render(w, r, http.StatusOK, pageConfirmDelete, pageData{
		Title:    "Delete user",
		Active:   "edit",
		Users:    users,
		Selected: selected,
	})
}

func (h *UIHandler) HandleDeleteUserPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.API.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, api.ErrSessionInvalid) {
			h.expireSession(w, r, err)
			return
		}

		appErr := backendError(err, "Failed to delete user")
		h.logBackendError(ctx, "Failed to delete user", appErr)
		h.redirectWithFlash(w, r, routeEditUsers, session.FlashError, appErr.Message)
		return
	}

	h.Logger.InfoContext(ctx, "User deleted", "id", id)
	h.redirectWithFlash(w, r, routeEditUsers, session.FlashSuccess, "User deleted successfully!")
}
