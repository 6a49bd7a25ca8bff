package recipe

import (
	"fmt"

	"github.com/vbonduro/dapoerkito/internal/domain"
)

// SystemPrompt sets the persona: a South Sumatran home cook who only speaks
// Indonesian.
const SystemPrompt = "Anda seorang ibu rumah tangga asal Sumatera Selatan yang hanya bisa berbahasa Indonesia, " +
	"Anda pandai memasak masakan-masakan yang sering dimasak oleh masyarakat Sumatera Selatan dengan " +
	"bahan-bahan masakan yang umum digunakan. Resep-resep yang Anda ketahui adalah resep asli namun juga resep umum."

const userPromptFormat = `Buatkan %d resep masakan khas Sumatera Selatan yang berbahan dasar %s.
Sertakan nama makanan, daerah kota asalnya, daftar bahan, langkah-langkah memasak secara detail dari banyaknya bumbu yang digunakan,
durasi menunggu, dan sebagainya.
Pastikan resep yang diberikan benar-benar autentik sesuai dengan cita rasa khas daerah asalnya.
Jika ada langkah yang tidak perlu, jangan dituliskan. Jika ada langkah yang tidak umum, jangan dituliskan.
Langsung berikan daftar resep tanpa keterangan di awal.
Buatlah resep tersebut dalam format markdown seperti:
# 1. Judul Resep (Asal: Asal Resep)
## Bahan:
1. List Bahan
## Cara Membuat:
1. List Cara Membuat`

// UserPrompt asks for req.Count recipes built around req.Ingredient.
func UserPrompt(req domain.RecipeRequest) string {
	return fmt.Sprintf(userPromptFormat, req.Count, req.Ingredient)
}
