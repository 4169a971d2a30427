package sqlstore

func (s *SQLStore) BlockUser(userID, blockedID int) error {
	query := s.rebind("INSERT INTO blocks (user_id, blocked_id) VALUES (?, ?) ON CONFLICT (user_id, blocked_id) DO NOTHING")
	_, err := s.db.Exec(query, userID, blockedID)
	return err
}

func (s *SQLStore) UnblockUser(userID, blockedID int) error {
	query := s.rebind("DELETE FROM blocks WHERE user_id = ? AND blocked_id = ?")
	_, err := s.db.Exec(query, userID, blockedID)
	return err
}

// IsBlocked reports whether userID has blocked blockedID.
func (s *SQLStore) IsBlocked(userID, blockedID int) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM blocks WHERE user_id = ? AND blocked_id = ?)")
	err := s.db.QueryRow(query, userID, blockedID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) GetBlockedUsers(userID int) ([]int, error) {
	query := s.rebind("SELECT blocked_id FROM blocks WHERE user_id = ? ORDER BY blocked_id")
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
