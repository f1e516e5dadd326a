package dbx

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"reflect"

	"github.com/pkg/errors"

	"github.com/marcodd23/go-txqueue/pkg/logx"
)

// GenerateRandomInt64Id generates a random, non-zero 64-bit ID.
//
// It uses crypto/rand and keeps drawing until the result is non-zero, so that
// zero can be used as "no id". It's used to tag transactions in the logs.
//
// Returns:
//   - int64: A random, non-zero 64-bit integer.
func GenerateRandomInt64Id() int64 {
	var idNum uint64

	for idNum == 0 {
		err := binary.Read(rand.Reader, binary.BigEndian, &idNum)
		if err != nil {
			logx.GetLogger().LogError(context.TODO(), "error generating 64-bit random ID", err)
			continue
		}

		idNum %= uint64(math.MaxInt64)
	}

	return int64(idNum)
}

// DeriveColumnNamesFromTags extracts column names from a struct's tags.
// Only exported fields with a non-empty tag that is not "-" are included,
// in field order.
//
// Arguments:
//   - entity: The struct from which to derive the column names. Can be a pointer or a value.
//   - tagKey: The key of the tag to extract values from (e.g., "db").
//
// Example:
//
//	type Example struct {
//	    ID   int    `db:"id"`
//	    Name string `db:"name"`
//	}
//	columns, _ := DeriveColumnNamesFromTags(Example{}, "db")
//	// columns would be: []string{"id", "name"}
func DeriveColumnNamesFromTags[T any](entity T, tagKey string) ([]string, error) {
	var columnNames []string

	t := reflect.TypeOf(entity)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.New("expected a struct type")
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		dbTag := field.Tag.Get(tagKey)
		if dbTag == "" || dbTag == "-" || field.PkgPath != "" {
			continue
		}

		columnNames = append(columnNames, dbTag)
	}

	return columnNames, nil
}

// StructToArgs converts a struct to positional statement arguments, in the
// order of its tagged fields (see DeriveColumnNamesFromTags).
//
// Example:
//
//	args, _ := dbx.StructToArgs(user, "db")
//	conn.Run("INSERT INTO users (id, name) VALUES ($1, $2)", args, done)
func StructToArgs[T any](entity T, tagKey string) ([]any, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil, errors.New("expected a struct type")
	}

	var args []any
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)

		dbTag := field.Tag.Get(tagKey)
		if dbTag == "" || dbTag == "-" || field.PkgPath != "" {
			continue
		}

		args = append(args, v.Field(i).Interface())
	}

	return args, nil
}

// RowToStruct maps a Row onto a new T, matching columns to the fields tagged with tagKey.
// Columns without a matching field are ignored, fields without a column keep their zero value.
//
// Returns an error if T is not a struct or a column value cannot be converted to the field type.
func RowToStruct[T any](row Row, tagKey string) (T, error) {
	var result T

	v := reflect.ValueOf(&result).Elem()
	if v.Kind() != reflect.Struct {
		return result, errors.New("expected a struct type")
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)

		dbTag := field.Tag.Get(tagKey)
		if dbTag == "" || dbTag == "-" || field.PkgPath != "" {
			continue
		}

		value, found := row[dbTag]
		if !found || value == nil {
			continue
		}

		val := reflect.ValueOf(value)
		if !val.Type().ConvertibleTo(field.Type) {
			return result, errors.Errorf("cannot convert column %s of type %v to %v", dbTag, val.Type(), field.Type)
		}

		v.Field(i).Set(val.Convert(field.Type))
	}

	return result, nil
}
