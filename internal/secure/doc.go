// Package secure keeps credential material encrypted while it sits in process
// memory.
//
// Buffers wrap memguard enclaves: the plaintext is sealed with
// XSalsa20Poly1305 and only decrypted into an mlocked LockedBuffer for the
// duration of a read. The credential cache and the master encryption key both
// live in Buffers.
//
//	buf := secure.NewBuffer([]byte(token))
//	defer buf.Destroy()
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	use(locked.Bytes())
//
// Call memguard.Purge at process exit to wipe every remaining enclave key.
package secure
