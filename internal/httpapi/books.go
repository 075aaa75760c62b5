package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bookstore/library/internal/library"
)

type returnRequest struct {
	UniqueID string   `json:"uniqueId"`
	ISBN     []string `json:"isbn"`
}

type cartAddRequest struct {
	Username string   `json:"username"`
	Books    []string `json:"books"`
}

type cartRemoveRequest struct {
	Username string `json:"username"`
	ISBN     string `json:"isbn"`
}

type checkoutRequest struct {
	Username string `json:"username"`
}

func (s *Server) addBook(w http.ResponseWriter, r *http.Request) {
	var in library.BookInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, s.log, err)
		return
	}

	book, err := s.inventory.AddBook(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Book Added Successfully", map[string]interface{}{"book": book})
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.inventory.ListBooks(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"books": books})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.inventory.GetBook(r.Context(), mux.Vars(r)["isbn"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"book": book})
}

func (s *Server) searchBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.inventory.SearchBooks(r.Context(), mux.Vars(r)["text"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"books": books})
}

func (s *Server) filterBooks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	books, err := s.inventory.FilterBooks(r.Context(), vars["genre"], vars["year"], vars["title"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"books": books})
}

func (s *Server) returnBooks(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	returned, err := s.inventory.ReturnBooks(r.Context(), req.UniqueID, req.ISBN)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Books returned successfully", map[string]interface{}{"returned": returned})
}

func (s *Server) listBorrowed(w http.ResponseWriter, r *http.Request) {
	borrowed, err := s.inventory.ListBorrowed(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", borrowed)
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req cartAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.inventory.AddToCart(r.Context(), req.Username, req.Books); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Books added to cart successfully", nil)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	borrowed, err := s.inventory.Checkout(r.Context(), req.Username)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Checkout successful", map[string]interface{}{"borrowed": borrowed})
}

func (s *Server) removeFromCart(w http.ResponseWriter, r *http.Request) {
	var req cartRemoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.inventory.RemoveFromCart(r.Context(), req.Username, req.ISBN); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Book removed from cart successfully", nil)
}

func (s *Server) booksInCart(w http.ResponseWriter, r *http.Request) {
	books, err := s.inventory.BooksInCart(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{"books": books})
}
