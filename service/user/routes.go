package user

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/gomail.v2"
)

type Handler struct {
	store db.Store
}

func NewHandler(store db.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/verify-email", h.verifyEmail).Methods("POST")
	router.HandleFunc("/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/password-reset/request", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/password-reset/confirm", h.handlePasswordReset).Methods("POST")

	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/profile", utils.AuthMiddleware(h.UpdateProfile)).Methods("PUT")
	router.HandleFunc("/profile/avatar", utils.AuthMiddleware(h.UploadAvatar)).Methods("POST")
	router.HandleFunc("/profile/banner", utils.AuthMiddleware(h.UploadBanner)).Methods("POST")

	// Sensitive mutations: a fresh password proof accompanies each request.
	router.HandleFunc("/account/password", utils.AuthMiddleware(h.ChangePassword)).Methods("POST")
	router.HandleFunc("/account/deactivate", utils.AuthMiddleware(h.Deactivate)).Methods("POST")
	router.HandleFunc("/account", utils.AuthMiddleware(h.DeleteAccount)).Methods("DELETE")

	router.HandleFunc("/images/{filename}", h.ServeImage).Methods("GET")
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.DisplayName == "" || req.Handle == "" {
		http.Error(w, "Email, password, display name and handle are required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	handle := normalizeHandle(req.Handle)
	taken, err := h.handleTaken(r, handle, "")
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if taken {
		http.Error(w, "Handle is already taken", http.StatusConflict)
		return
	}

	var existing []models.User
	if err := h.store.Find(r.Context(), db.CollUsers, map[string]interface{}{"email": req.Email}, &existing); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if len(existing) > 0 {
		http.Error(w, "Email is already registered", http.StatusConflict)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error creating account", http.StatusInternalServerError)
		return
	}

	user := models.User{
		UID:               uuid.New().String(),
		Email:             req.Email,
		PasswordHash:      string(passwordHash),
		DisplayName:       req.DisplayName,
		Handle:            handle,
		CreatedAt:         time.Now().UTC(),
		VerificationCode:  randomCode(6),
		Followers:         []string{},
		Following:         []string{},
		Blocked:           []string{},
		BlockedBy:         []string{},
		SavedPosts:        []string{},
		Collections:       []models.Collection{},
	}
	if err := h.store.Insert(r.Context(), db.CollUsers, user.UID, user); err != nil {
		utils.WriteStoreError(w, err)
		return
	}

	if err := sendVerificationEmail(user.Email, user.VerificationCode); err != nil {
		utils.Logger.Warnw("send verification email", "error", err)
	}

	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Account created, verification email sent",
		"user":    user,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.findByEmail(r, req.Email)
	if err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if user.Deactivated {
		// Logging in reactivates the account.
		if err := h.store.Update(r.Context(), db.Ref(db.CollUsers, user.UID), db.Set("deactivated", false)); err != nil {
			utils.WriteStoreError(w, err)
			return
		}
	}

	access, err := generateJWT(user.UID, accessTokenMinutes())
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}
	refresh, err := generateRefreshToken(user.UID)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}
	if err := h.saveRefreshToken(r, user.UID, refresh); err != nil {
		utils.WriteStoreError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          user,
	})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.findByEmail(r, req.Email)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if user.VerificationCode == "" || user.VerificationCode != req.Code {
		http.Error(w, "Invalid verification code", http.StatusBadRequest)
		return
	}
	err = h.store.Update(r.Context(), db.Ref(db.CollUsers, user.UID),
		db.Set("emailVerified", true),
		db.Unset("verificationCode"),
	)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		http.Error(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(req.RefreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(os.Getenv("SECRET_KEY")), nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	var user models.User
	if err := h.store.Get(r.Context(), db.Ref(db.CollUsers, claims.Subject), &user); err != nil {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	if user.RefreshToken != req.RefreshToken || time.Now().After(user.RefreshExpiresAt) {
		http.Error(w, "Refresh token expired", http.StatusUnauthorized)
		return
	}

	access, err := generateJWT(user.UID, accessTokenMinutes())
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}
	refresh, err := generateRefreshToken(user.UID)
	if err != nil {
		http.Error(w, "Error generating token", http.StatusInternalServerError)
		return
	}
	if err := h.saveRefreshToken(r, user.UID, refresh); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.findByEmail(r, req.Email)
	if err != nil {
		// Do not reveal whether the email exists.
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "If that email exists, a reset link was sent"})
		return
	}

	reset := models.PasswordResetToken{
		ID:        uuid.New().String(),
		UserID:    user.UID,
		Token:     randomToken(),
		ExpiresAt: time.Now().UTC().Add(1 * time.Hour),
	}
	if err := h.store.Insert(r.Context(), db.CollResetTokens, reset.ID, reset); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if err := sendPasswordResetEmail(user.Email, reset.Token); err != nil {
		utils.Logger.Warnw("send reset email", "error", err)
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "If that email exists, a reset link was sent"})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	var tokens []models.PasswordResetToken
	if err := h.store.Find(r.Context(), db.CollResetTokens, map[string]interface{}{"token": req.Token}, &tokens); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if len(tokens) == 0 || time.Now().After(tokens[0].ExpiresAt) {
		http.Error(w, "Invalid or expired reset token", http.StatusBadRequest)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error resetting password", http.StatusInternalServerError)
		return
	}
	err = h.store.Update(r.Context(), db.Ref(db.CollUsers, tokens[0].UserID),
		db.Set("passwordHash", string(passwordHash)),
		db.Unset("refreshToken"),
	)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), db.Ref(db.CollResetTokens, tokens[0].ID)); err != nil {
		utils.Logger.Warnw("delete used reset token", "error", err)
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password reset"})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := h.store.Get(r.Context(), db.Ref(db.CollUsers, mux.Vars(r)["id"]), &user); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Handle      *string `json:"handle,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	Location    *string `json:"location,omitempty"`
	Website     *string `json:"website,omitempty"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var ops []db.Op
	if req.DisplayName != nil {
		ops = append(ops, db.Set("displayName", *req.DisplayName))
	}
	if req.Handle != nil {
		handle := normalizeHandle(*req.Handle)
		taken, err := h.handleTaken(r, handle, userID)
		if err != nil {
			utils.WriteStoreError(w, err)
			return
		}
		if taken {
			http.Error(w, "Handle is already taken", http.StatusConflict)
			return
		}
		ops = append(ops, db.Set("handle", handle))
	}
	if req.Bio != nil {
		ops = append(ops, db.Set("bio", *req.Bio))
	}
	if req.Location != nil {
		ops = append(ops, db.Set("location", *req.Location))
	}
	if req.Website != nil {
		ops = append(ops, db.Set("website", *req.Website))
	}
	if len(ops) == 0 {
		http.Error(w, "Nothing to update", http.StatusBadRequest)
		return
	}

	if err := h.store.Update(r.Context(), db.Ref(db.CollUsers, userID), ops...); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Profile updated"})
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	h.uploadProfileImage(w, r, "avatarUrl")
}

func (h *Handler) UploadBanner(w http.ResponseWriter, r *http.Request) {
	h.uploadProfileImage(w, r, "bannerUrl")
}

func (h *Handler) uploadProfileImage(w http.ResponseWriter, r *http.Request, field string) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(utils.MaxImageSize); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "Image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := utils.SaveImage(file, header)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error saving image: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.store.Update(r.Context(), db.Ref(db.CollUsers, userID), db.Set(field, url)); err != nil {
		utils.DeleteImage(url)
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.NewPassword) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if err := h.requireFreshPassword(r, userID, req.CurrentPassword); err != nil {
		http.Error(w, "Current password is incorrect", http.StatusForbidden)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error changing password", http.StatusInternalServerError)
		return
	}
	err = h.store.Update(r.Context(), db.Ref(db.CollUsers, userID),
		db.Set("passwordHash", string(passwordHash)),
		db.Unset("refreshToken"),
	)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.requireFreshPassword(r, userID, req.Password); err != nil {
		http.Error(w, "Password is incorrect", http.StatusForbidden)
		return
	}

	err = h.store.Update(r.Context(), db.Ref(db.CollUsers, userID),
		db.Set("deactivated", true),
		db.Unset("refreshToken"),
	)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Account deactivated"})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.requireFreshPassword(r, userID, req.Password); err != nil {
		http.Error(w, "Password is incorrect", http.StatusForbidden)
		return
	}

	if err := h.store.Delete(r.Context(), db.Ref(db.CollUsers, userID)); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}

func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if containsDotDot(filename) {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(utils.ImagePath, filename))
}

func containsDotDot(v string) bool {
	for _, part := range strings.Split(v, "/") {
		if part == ".." {
			return true
		}
	}
	return strings.Contains(v, "..")
}

// requireFreshPassword is the reauthentication gate in front of sensitive
// mutations: a valid session token is not enough.
func (h *Handler) requireFreshPassword(r *http.Request, userID, password string) error {
	var user models.User
	if err := h.store.Get(r.Context(), db.Ref(db.CollUsers, userID), &user); err != nil {
		return err
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
}

func (h *Handler) findByEmail(r *http.Request, email string) (models.User, error) {
	var users []models.User
	if err := h.store.Find(r.Context(), db.CollUsers, map[string]interface{}{"email": email}, &users); err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, db.ErrNotFound
	}
	return users[0], nil
}

func (h *Handler) handleTaken(r *http.Request, handle, excludeUID string) (bool, error) {
	var users []models.User
	if err := h.store.Find(r.Context(), db.CollUsers, map[string]interface{}{"handle": handle}, &users); err != nil {
		return false, err
	}
	for _, u := range users {
		if u.UID != excludeUID {
			return true, nil
		}
	}
	return false, nil
}

func normalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return strings.ToLower(handle)
}

func generateJWT(userID string, expirationMinutes int) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expirationMinutes) * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func generateRefreshToken(userID string) (string, error) {
	return generateJWT(userID, 60*24*30)
}

func (h *Handler) saveRefreshToken(r *http.Request, userID, token string) error {
	return h.store.Update(r.Context(), db.Ref(db.CollUsers, userID),
		db.Set("refreshToken", token),
		db.Set("refreshExpiresAt", time.Now().UTC().Add(30*24*time.Hour)),
	)
}

func accessTokenMinutes() int {
	if v := os.Getenv("ACCESS_TOKEN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 60
}

func sendVerificationEmail(email, code string) error {
	return sendMail(email, "Verify your Zispr account",
		fmt.Sprintf("Your verification code is: %s", code))
}

func sendPasswordResetEmail(email, token string) error {
	return sendMail(email, "Reset your Zispr password",
		fmt.Sprintf("Use this token to reset your password: %s", token))
}

func sendMail(to, subject, body string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	port, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if err != nil {
		port = 587
	}

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)
	return d.DialAndSend(m)
}

func randomCode(digits int) string {
	b := make([]byte, 4)
	rand.Read(b)
	n := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	if n < 0 {
		n = -n
	}
	max := 1
	for i := 0; i < digits; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", digits, n%max)
}

func randomToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
