package bookprice

// Event names used to chain jobs inside one runner process.
const (
	EventBookCreated              = "BOOK_CREATED"
	EventBooksImported            = "BOOKS_IMPORTED"
	EventBookstoreSearchCompleted = "BOOKSTORE_SEARCH_COMPLETED"
	EventBookPricesUpdated        = "BOOK_PRICES_UPDATED"
)
