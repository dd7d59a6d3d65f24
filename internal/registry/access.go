package registry

// authorize gates puzzle creation to the owner bound at construction.
func (r *Registry) authorize(caller string) error {
	if caller == "" || caller != r.owner {
		return ErrUnauthorized
	}
	return nil
}
